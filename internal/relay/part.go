package relay

import (
	"io"
	"strconv"
)

const partContentType = "image/jpeg"

// ContentType returns the response Content-Type for the given boundary.
func ContentType(boundary string) string {
	return "multipart/x-mixed-replace; boundary=" + boundary
}

// WritePart writes one multipart part:
//
//	--<boundary>\r\n
//	Content-Type: image/jpeg\r\n
//	Content-Length: <len(frame)>\r\n
//	\r\n
//	<frame>\r\n
func WritePart(w io.Writer, boundary string, frame []byte) error {
	head := make([]byte, 0, 96+len(boundary))
	head = append(head, "--"...)
	head = append(head, boundary...)
	head = append(head, "\r\nContent-Type: "+partContentType+"\r\nContent-Length: "...)
	head = strconv.AppendInt(head, int64(len(frame)), 10)
	head = append(head, "\r\n\r\n"...)

	if _, err := w.Write(head); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
