/*
Package remote abstracts command execution on deployment targets.

Orchestration logic builds Command values (shell line, optional stdin
stream, accepted exit codes) and hands them to a Runner. Two runners
exist: SSHRunner for remote hosts and LocalRunner for the build
machine. Both return a Result with captured stdout/stderr and the exit
code, turning "ship a heredoc over ssh" into a typed call site.

Exit codes outside a command's accepted set surface as *ExitError with
the stderr tail attached, so failures carry their diagnostics without
the caller re-running anything.
*/
package remote
