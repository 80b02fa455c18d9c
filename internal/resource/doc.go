// Package resource limits background work: the number of concurrent jobs
// and the IO throughput they may use.
//
// A nil *Controller imposes no limits.
//
//	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 8 << 20})
//	if err := rc.AcquireBackground(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseBackground()
//	w := rc.Writer(ctx, dst)
package resource
