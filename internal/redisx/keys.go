package redisx

import "time"

const (
	// Converted rate cache: fx:rate:{from}:{to} -> decimal string
	KeyFXRate = "fx:rate:%s:%s"

	// Dedup event processing: dedup:{consumer}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var TTLDedup = 48 * time.Hour
