package cache

import "io"

const copyBufferSize = 32 * 1024

// fanOut copies src into every sink until end-of-stream. A sink whose
// write fails is closed with the error and dropped; the remaining sinks
// keep receiving bytes, so a disconnecting client never starves the
// persist sink and a failed persist never starves the client. The copy
// stops early only when every sink is gone.
func fanOut(src io.Reader, sinks ...*io.PipeWriter) {
	live := make([]*io.PipeWriter, len(sinks))
	copy(live, sinks)

	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			alive := live[:0]
			for _, w := range live {
				if _, err := w.Write(buf[:n]); err != nil {
					w.CloseWithError(err)
					continue
				}
				alive = append(alive, w)
			}
			live = alive
			if len(live) == 0 {
				return
			}
		}
		if readErr != nil {
			for _, w := range live {
				if readErr == io.EOF {
					w.Close()
				} else {
					w.CloseWithError(readErr)
				}
			}
			return
		}
	}
}
