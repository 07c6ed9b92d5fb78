package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nhle/rebootreminder/internal/credential"
	"github.com/nhle/rebootreminder/internal/model"
)

func runConfigShow(_ *cobra.Command, _ []string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.API.Token != "" {
		cfg.API.Token = "********"
	}
	if jsonOutput {
		return printJSON(cfg)
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}

func runConfigValidate(_ *cobra.Command, _ []string) error {
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("reading %s: %w", configPath, err)
	}
	// LoadConfig validates after decoding.
	if _, err := model.LoadConfig(configPath); err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", configPath)
	return nil
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}
	if err := model.SaveConfig(configPath, model.DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", configPath)
	return nil
}

func runTokenSet(_ *cobra.Command, args []string) error {
	var token string
	if len(args) == 1 {
		token = args[0]
	} else {
		err := huh.NewInput().
			Title("Control API token").
			EchoMode(huh.EchoModePassword).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("token cannot be empty")
				}
				return nil
			}).
			Value(&token).
			Run()
		if err != nil {
			return err
		}
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token cannot be empty")
	}
	if err := credential.Set(credential.APITokenKey, token); err != nil {
		return err
	}
	fmt.Println("token stored in the keyring")
	return nil
}

func runTokenClear(_ *cobra.Command, _ []string) error {
	if err := credential.Delete(credential.APITokenKey); err != nil {
		return err
	}
	fmt.Println("token removed from the keyring")
	return nil
}
