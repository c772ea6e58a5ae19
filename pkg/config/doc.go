/*
Package config loads per-application deployment configuration from YAML.

One file describes one application: its domain and port, the SSH target,
the proxy location, image build/transfer settings, and the tuning knobs
of the promotion state machine. Load applies defaults, parses, and
validates in one step; the resulting App value is passed explicitly into
component constructors.
*/
package config
