package onnx

// encoding is one tokenized text.
type encoding struct {
	ids, mask, types []int64
}

// batch is a row-major [size, seqLen] set of padded inputs.
type batch struct {
	size, seqLen     int
	ids, mask, types []int64
}

// truncate caps a sequence at maxLen tokens, keeping the final special token.
func truncate(e encoding, maxLen int) encoding {
	if maxLen <= 0 || len(e.ids) <= maxLen {
		return e
	}
	cut := func(s []int64) []int64 {
		if len(s) <= maxLen {
			return s
		}
		out := make([]int64, maxLen)
		copy(out, s[:maxLen-1])
		out[maxLen-1] = s[len(s)-1]
		return out
	}
	return encoding{ids: cut(e.ids), mask: cut(e.mask), types: cut(e.types)}
}

// padBatch right-pads every sequence with zeros to the longest one. Padded
// positions carry mask 0 and are ignored by pooling.
func padBatch(encs []encoding) batch {
	seqLen := 1
	for _, e := range encs {
		seqLen = max(seqLen, len(e.ids))
	}

	b := batch{
		size:   len(encs),
		seqLen: seqLen,
		ids:    make([]int64, len(encs)*seqLen),
		mask:   make([]int64, len(encs)*seqLen),
		types:  make([]int64, len(encs)*seqLen),
	}
	for i, e := range encs {
		row := i * seqLen
		copy(b.ids[row:row+seqLen], e.ids)
		copy(b.types[row:row+seqLen], e.types)
		if len(e.mask) == len(e.ids) {
			copy(b.mask[row:row+seqLen], e.mask)
			continue
		}
		for t := range e.ids {
			b.mask[row+t] = 1
		}
	}
	return b
}
