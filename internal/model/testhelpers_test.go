package model

import "reflect"

var (
	stringType = reflect.TypeOf("")
	intType    = reflect.TypeOf(0)
)
