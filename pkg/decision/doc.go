// Package decision derives per-message conversation signals from raw user
// text: a fixed set of boolean flags, a 0-10 emotional intensity score, a
// 1-3 openness level and the fields derived from them.
//
// Everything in this package is pure and deterministic. Detectors are
// regular expressions compiled once; a detector that cannot be compiled is
// disabled and logged instead of failing the whole engine.
//
// Basic usage:
//
//	res := decision.Decide("estou muito triste com o trabalho...")
//	fmt.Println(res.Intensity, res.Openness, res.Flags.Names())
package decision
