package preview

// SwapTracks returns a clone of the document in which every element on
// track `a` moves to track `b` and vice versa. Elements on other tracks
// are untouched, order within the document is preserved. Tracks are
// 1-based; a swap involving a track below 1 returns the original document
// unchanged and reports changed=false, as does a swap that touches no
// element.
func SwapTracks(source *ElementDescriptor, a int, b int) (*ElementDescriptor, bool) {
	if source == nil {
		return source, false
	}
	if a < 1 || b < 1 || a == b {
		return source, false
	}

	touched := false
	for _, element := range source.Elements {
		if element.Track == a || element.Track == b {
			touched = true
			break
		}
	}
	if !touched {
		return source, false
	}

	out := source.Clone()
	for _, element := range out.Elements {
		switch element.Track {
		case a:
			element.Track = b
		case b:
			element.Track = a
		}
	}
	return out, true
}
