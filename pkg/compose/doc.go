/*
Package compose renders the transient color-specific compose
definitions a blue-green deployment runs from.

The canonical docker-compose.yml on the target host is the template;
Render produces the blue or green variant by substituting
color-suffixed container names and stripping host port bindings (the
reverse proxy owns the public port). Naming helpers in this package are
the single source of truth for container and compose-file names, so the
prober, deployer, and rollback controller never re-derive them ad hoc.
*/
package compose
