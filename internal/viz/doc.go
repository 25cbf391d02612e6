// Package viz renders solver progress and solutions in the terminal.
//
//   - [Summary]: lipgloss report of a solve with asciigraph charts of the
//     cost history and the optimized states and controls
//   - [Live]: Bubble Tea program that steps the solver one iteration at a
//     time and redraws after each
//   - [Canvas]: Braille pixel canvas used for phase portraits
//
// # Key Bindings
//
//	Space - Pause/Resume iterating
//	N     - Run a single iteration while paused
//	R     - Re-initialize from the initial guess
//	T     - Cycle color themes
//	P     - Toggle the phase portrait
//	Q     - Quit
package viz
