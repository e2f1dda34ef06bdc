// Package format reduces the raw format list reported by the retrieval
// engine to one candidate per quality tier.
package format

import (
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cast"

	"github.com/Oldsnak/video-downloader-api/internal/model"
)

// PreferredExt is ranked above other containers within a tier.
const PreferredExt = "mp4"

type entry struct {
	candidate model.FormatCandidate
	fps       float64
	size      int64
}

// Select keeps video-capable formats, groups them by height and returns the
// best candidate of each tier in ascending order with the unknown tier (0)
// last. Within a tier candidates rank by progressive, preferred container,
// frame rate and file size, all descending; the earlier entry wins a full tie.
func Select(raw []map[string]any) []model.FormatCandidate {
	best := make(map[int]entry)
	for _, f := range raw {
		e, ok := parse(f)
		if !ok {
			continue
		}
		tier := e.candidate.Height
		if cur, seen := best[tier]; !seen || better(e, cur) {
			best[tier] = e
		}
	}

	tiers := make([]int, 0, len(best))
	for tier := range best {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool {
		a, b := tiers[i], tiers[j]
		if a == 0 || b == 0 {
			return b == 0 && a != 0
		}
		return a < b
	})

	out := make([]model.FormatCandidate, 0, len(tiers))
	for _, tier := range tiers {
		out = append(out, best[tier].candidate)
	}
	return out
}

// better reports whether a outranks b.
func better(a, b entry) bool {
	if a.candidate.Progressive != b.candidate.Progressive {
		return a.candidate.Progressive
	}
	aExt, bExt := a.candidate.Ext == PreferredExt, b.candidate.Ext == PreferredExt
	if aExt != bExt {
		return aExt
	}
	if a.fps != b.fps {
		return a.fps > b.fps
	}
	return a.size > b.size
}

func parse(f map[string]any) (entry, bool) {
	id := strings.TrimSpace(cast.ToString(f["format_id"]))
	if id == "" {
		return entry{}, false
	}

	ext := strings.ToLower(cast.ToString(f["ext"]))
	note := strings.ToLower(cast.ToString(f["format_note"]))
	if strings.Contains(note, "storyboard") || ext == "mhtml" {
		return entry{}, false
	}

	height := positiveInt(f["height"])
	vcodec := codec(f["vcodec"])
	acodec := codec(f["acodec"])
	// A missing vcodec is only trusted as video when a height is reported.
	if vcodec == "none" || (vcodec == "" && height == 0) {
		return entry{}, false
	}

	c := model.FormatCandidate{
		FormatID:    id,
		Height:      height,
		Quality:     qualityLabel(height),
		Ext:         ext,
		Progressive: acodec != "" && acodec != "none",
		VCodec:      vcodec,
	}
	if c.Progressive {
		c.ACodec = acodec
	}

	size := positiveInt64(f["filesize"])
	if size == 0 {
		size = positiveInt64(f["filesize_approx"])
	}
	if size > 0 {
		c.FilesizeBytes = &size
		c.FilesizeHuman = humanize.Bytes(uint64(size))
	}

	fps, err := cast.ToFloat64E(f["fps"])
	if err != nil || fps < 0 {
		fps = 0
	}
	if fps > 0 {
		c.FPS = &fps
	}

	return entry{candidate: c, fps: fps, size: size}, true
}

func qualityLabel(height int) string {
	if height <= 0 {
		return "unknown"
	}
	return strconv.Itoa(height) + "p"
}

func codec(v any) string {
	return strings.ToLower(strings.TrimSpace(cast.ToString(v)))
}

func positiveInt(v any) int {
	n, err := cast.ToIntE(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func positiveInt64(v any) int64 {
	n, err := cast.ToInt64E(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
