package record

import "encoding/json"

// MarshalRecord serialises a Record to JSON.
func MarshalRecord(r Record) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalRecord deserialises a Record from JSON.
func UnmarshalRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// MarshalDataList serialises a replay data list to JSON.
func MarshalDataList(list []ReplayData) ([]byte, error) {
	return json.Marshal(list)
}

// UnmarshalDataList deserialises a replay data list from JSON.
func UnmarshalDataList(data []byte) ([]ReplayData, error) {
	var list []ReplayData
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}
