// Package models contains shared data models used across the vegchange codebase.
package models

import "fmt"

// ChangeClass is one of five ordered categories a delta is bucketed into.
// The numeric values are stable; they are what the engine writes into class bands.
type ChangeClass uint8

const (
	StrongLoss   ChangeClass = 1
	ModerateLoss ChangeClass = 2
	Stable       ChangeClass = 3
	ModerateGain ChangeClass = 4
	StrongGain   ChangeClass = 5
)

// AllChangeClasses lists the classes in ascending order.
var AllChangeClasses = []ChangeClass{StrongLoss, ModerateLoss, Stable, ModerateGain, StrongGain}

type classInfo struct {
	label   string
	labelES string
	color   string
}

var classTable = map[ChangeClass]classInfo{
	StrongLoss:   {label: "Strong Loss", labelES: "Pérdida Fuerte", color: "#d7191c"},
	ModerateLoss: {label: "Moderate Loss", labelES: "Pérdida Moderada", color: "#fdae61"},
	Stable:       {label: "Stable", labelES: "Estable", color: "#ffffbf"},
	ModerateGain: {label: "Moderate Gain", labelES: "Ganancia Moderada", color: "#a6d96a"},
	StrongGain:   {label: "Strong Gain", labelES: "Ganancia Fuerte", color: "#1a9641"},
}

// Valid reports whether c is one of the five defined classes.
func (c ChangeClass) Valid() bool {
	_, ok := classTable[c]
	return ok
}

func (c ChangeClass) String() string {
	if info, ok := classTable[c]; ok {
		return info.label
	}
	return fmt.Sprintf("ChangeClass(%d)", uint8(c))
}

// Label returns the human-readable label in the given language ("en" or "es").
// Unknown languages fall back to English.
func (c ChangeClass) Label(lang string) string {
	info, ok := classTable[c]
	if !ok {
		return c.String()
	}
	if lang == "es" {
		return info.labelES
	}
	return info.label
}

// Color returns the hex palette colour used for map rendering.
func (c ChangeClass) Color() string {
	return classTable[c].color
}
