package record

// Classify groups a flat, ordered stream (as read back from a store) into
// segments. Each snapshot opens a new segment; records seen before the
// first snapshot have no baseline and are dropped.
func Classify(records []Record) []ReplayData {
	var list []ReplayData
	for _, r := range records {
		if IsSnapshot(r) {
			snap, err := r.Snapshot()
			if err != nil {
				continue
			}
			list = append(list, ReplayData{Snapshot: snap})
			continue
		}
		if len(list) == 0 {
			continue
		}
		last := &list[len(list)-1]
		last.Records = append(last.Records, r)
	}
	return list
}

// Flatten is the inverse of Classify: snapshot record then its records,
// segment after segment.
func Flatten(list []ReplayData) ([]Record, error) {
	var out []Record
	for _, d := range list {
		sr, err := d.Snapshot.Record()
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
		out = append(out, d.Records...)
	}
	return out, nil
}
