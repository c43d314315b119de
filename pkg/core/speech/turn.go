package speech

import (
	"context"
	"time"

	"github.com/voxbridge/voxbridge/pkg/core"
)

// AwaitFinal drains deltas until a final result arrives. The silence
// timer restarts on every partial, so it measures caller inactivity, not
// total utterance length. Expiry yields recognition_timeout; a stream
// that closes without a final yields recognition_unavailable.
func AwaitFinal(ctx context.Context, stream *RecognitionStream, silence time.Duration) (TranscriptDelta, error) {
	timer := time.NewTimer(silence)
	defer timer.Stop()

	var last TranscriptDelta
	for {
		select {
		case <-ctx.Done():
			return last, core.NewCallTerminated("context cancelled")

		case <-timer.C:
			return last, core.NewRecognitionTimeout("no final transcript before silence timeout")

		case d, ok := <-stream.Deltas():
			if !ok {
				if err := stream.Err(); err != nil {
					return last, err
				}
				return last, core.NewRecognitionUnavailable("recognition stream ended without final result", nil)
			}
			if d.IsFinal {
				return d, nil
			}
			last = d
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(silence)
		}
	}
}
