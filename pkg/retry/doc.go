/*
Package retry provides a small bounded-retry utility shared by the
health gate and the cloud IP workaround.

A Policy holds the attempt budget and delay shape; Do runs an operation
under it. Wrapping an error with Stop aborts the loop immediately,
which is how callers express fatal conditions (a crash-looping
container, an exhausted elastic-IP quota) that retrying cannot fix.
*/
package retry
