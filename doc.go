// Package flowguard is the top-level coordinator of spec §4.J: given a
// request, it extracts identifiers, checks bans, matches a rule, and runs
// that rule's Decision Chain, returning a Decision.
package flowguard
