// Package tally derives the tally state of a switcher input from the
// switcher mix state.
//
// A Computer watches one input. It keeps two ReasonSets, one collecting the
// reasons the input is visible on preview and one collecting the reasons it
// is on air, and derives a single State from them:
//
//	program reasons | preview reasons | State
//	----------------+-----------------+------------------
//	empty           | empty           | INACTIVE
//	empty           | non-empty       | PREVIEW
//	non-empty       | empty           | PROGRAM
//	non-empty       | non-empty       | PREVIEW_PROGRAM
//
// Reasons are tokens keyed by the contributing mechanism, so re-running a
// handler against unchanged switcher state never changes the sets:
//
//	previewInput, programInput    background buses
//	transition                    background mid-transition onto air
//	usk.<i>                       upstream keyer i (next transition / on air)
//	uskTransition.<i>             upstream keyer i mid-transition onto air
//	dsk.<i>                       downstream keyer i (tied / on air)
package tally
