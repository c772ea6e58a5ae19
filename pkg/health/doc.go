/*
Package health implements the gate between starting a new container set
and promoting it to live traffic.

The gate polls a container with a bounded budget (default 30 attempts,
2s apart) and classifies the outcome as one of four verdicts:

  - healthy: the in-container HTTP probe returned the success marker
  - crash-looping: the restart count grew past the threshold, so the
    gate gives up immediately rather than exhausting the budget
  - missing: the container disappeared mid-gating
  - unhealthy-timeout: the budget ran out without a healthy probe

The first healthy result short-circuits the loop. The deployer promotes
only on VerdictHealthy; everything else takes the abort path, leaving
the old color serving.
*/
package health
