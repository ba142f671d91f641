package roi

import "fmt"

// GroupKey formats the capture-group key for a (focus, exposure) pair.
func GroupKey(focus, exposure int) string {
	return fmt.Sprintf("%d,%d", focus, exposure)
}

// Group is the set of ROIs serviced by a single capture. Groups have no
// persistent identity; they are re-derived every time a config is read.
type Group struct {
	Key      string
	Focus    int
	Exposure int
	ROIs     []ROI
}

// Groups partitions rois by (focus, exposure), preserving the order in
// which each pair first appears in the config. The first group's settings
// are the ones the client applies at camera init.
func Groups(rois []ROI) []Group {
	index := make(map[string]int)
	var out []Group
	for _, r := range rois {
		key := r.GroupKey()
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, Group{Key: key, Focus: r.Focus, Exposure: r.Exposure})
		}
		out[i].ROIs = append(out[i].ROIs, r)
	}
	return out
}
