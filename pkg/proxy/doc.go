/*
Package proxy flips the reverse-proxy upstream binding during a
blue-green cutover.

Each application has one nginx config file on the target host whose
upstream block carries a single server directive. Flip rewrites that
directive to the new color's container, validates the result with
nginx -t inside the proxy container, and issues a hitless reload.
Validation failure restores the previous config, because until the
reload succeeds the old upstream is the only proven-good route.
*/
package proxy
