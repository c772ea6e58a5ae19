/*
Package runtime wraps the docker CLI on deployment targets.

DockerClient translates typed operations (inspect, compose up, network
connect, stop-and-remove) into shell commands executed through a
remote.Runner, and parses the output back into pkg/types values. A
missing container is a normal answer here, not an error; the deployer
and prober branch on it constantly.
*/
package runtime
