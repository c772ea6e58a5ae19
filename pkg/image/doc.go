/*
Package image builds application images and moves them onto deployment
targets.

Tags are immutable: the short commit hash when available, a fixed-width
UTC timestamp otherwise. Two transfer modes exist: registry push/pull
and a direct docker save | gzip | ssh | docker load stream for hosts
without registry access. Any failure in this package happens before a
single running container has been touched, so aborting is always safe.

Freshness comparison of timestamp tags is lexicographic, which is
correct only while the tag format keeps its fixed width; IsFresher
pattern-checks both tags before comparing for exactly that reason.
"latest" tags bypass the check entirely.
*/
package image
