// Package flags formats Cobra flag usage for enumerated values.
package flags
