package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill converts Watermill message metadata into a Store. Dotted keys
// become nested paths.
func FromWatermill(md message.Metadata) *Store {
	if len(md) == 0 {
		return &Store{}
	}
	return FromFlat(md)
}

// ToWatermill flattens a Store into Watermill message metadata.
func ToWatermill(s *Store) message.Metadata {
	flat := s.Flatten()
	wm := make(message.Metadata, len(flat))
	for k, v := range flat {
		wm[k] = v
	}
	return wm
}
