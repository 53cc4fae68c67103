package server

import (
	"fmt"
	"net/http"

	"github.com/tg/roverlink/internal/util"
)

const previewBoundary = "roverlinkframe"

// handleMJPEG serves the frames handed to the MJPEG streamer as a
// multipart/x-mixed-replace stream that browsers render natively.
func (s *StatusServer) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	logger := util.GetLogger()

	preview := s.backend.Preview()
	id, frames := preview.Subscribe(2)
	defer preview.Unsubscribe(id)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+previewBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	logger.Info("Preview client connected", "remote", r.RemoteAddr)
	sent := 0
	defer func() {
		logger.Info("Preview client disconnected", "remote", r.RemoteAddr, "frames", sent)
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", previewBoundary, len(frame)); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			sent++
		}
	}
}
