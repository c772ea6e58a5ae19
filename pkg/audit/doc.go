/*
Package audit keeps the append-only deployment log: one tab-separated
line per attempt with timestamp, operator, application, version, image
reference, commit, and outcome.
*/
package audit
