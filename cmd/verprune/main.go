// verprune prunes old object versions from a versioned bucket according to
// per-path retention policies.
//
// Usage:
//
//	# Run a single pass
//	verprune run --config /etc/verprune/config.yaml
//
//	# Show what a pass would delete
//	verprune run --dry-run
//
//	# Run on the configured cron schedule, reloading the config on change
//	verprune schedule --config /etc/verprune/config.yaml
//
//	# Show the policy and windows that apply to a path
//	verprune explain photos/2024/img.jpg
//
//	# List recent runs from the journal
//	verprune history
package main

func main() {
	Execute()
}
