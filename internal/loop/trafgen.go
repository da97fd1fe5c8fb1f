//go:build linux

package loop

import (
	"fmt"
	"io"

	"github.com/Bracksun/netsniff-ng/internal/capfile"
)

// WriteTrafgen renders one record's payload in trafgen's text packet
// format to w: a braced block, ten "0x.." bytes per line, blank line
// after the closing brace.
func WriteTrafgen(w io.Writer) RecordSink {
	return func(rec capfile.Record) error {
		if _, err := io.WriteString(w, "{\n"); err != nil {
			return err
		}
		for i, b := range rec.Payload {
			if i%10 == 0 {
				if _, err := io.WriteString(w, "  "); err != nil {
					return err
				}
			}
			sep := ", "
			if i == len(rec.Payload)-1 {
				sep = ""
			} else if (i+1)%10 == 0 {
				sep = ",\n"
			}
			if _, err := fmt.Fprintf(w, "0x%02x%s", b, sep); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "\n}\n\n")
		return err
	}
}
