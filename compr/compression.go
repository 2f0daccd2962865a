// Copyright (C) 2026 demoinfocs2-lite contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package compr wraps the Snappy/S2 codec the wire format uses to
// compress demo frames and string-table entries.
package compr

import (
	"fmt"

	"github.com/klauspost/compress/s2"
)

// DecompressS2 decompresses a Snappy/S2-framed blob, sizing the
// destination from the frame's own length prefix. Shared by envelope
// (whole-frame decompression) and stringtable (per-entry and
// whole-message value decompression).
func DecompressS2(src []byte) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return nil, fmt.Errorf("compr: s2 decoded length: %w", err)
	}
	dst := make([]byte, n)
	if n == 0 {
		return dst, nil
	}
	ret, err := s2.Decode(dst[:0:n], src)
	if err != nil {
		return nil, fmt.Errorf("compr: s2 decompress: %w", err)
	}
	if len(ret) != n {
		return nil, fmt.Errorf("compr: s2 decompress: expected %d bytes, got %d", n, len(ret))
	}
	// the decoder should not have had to realloc the buffer
	if &ret[0] != &dst[0] {
		return nil, fmt.Errorf("compr: s2 decompress: output buffer reallocated")
	}
	return ret, nil
}
