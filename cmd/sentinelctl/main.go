// Command sentinelctl evaluates events offline against the decision engine.
//
// Usage:
//
//	sentinelctl fraud -f activity.json
//	echo '{"subjectId":"u1","activityType":"login"}' | sentinelctl fraud
//	sentinelctl behavior -f sample.json
//	sentinelctl verify -f claim.json
//	sentinelctl crisis -f report.json
//	sentinelctl crisis --list
//	sentinelctl policy show
//	sentinelctl policy resolve --score 0.7 --indicator critical_fraud
//
// Nothing is persisted: every run uses a fresh in-memory audit store, and
// actions are only logged.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
