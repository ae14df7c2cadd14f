package model

// MediaObject describes a stored, write-once blob.
type MediaObject struct {
	Key         string
	ContentType string
	Size        int64
	Location    string
}

// ImageMeta carries the per-image signals the tier classifier looks at.
// It is derived once from the uploaded payload so classification stays
// reproducible across retries.
type ImageMeta struct {
	Width     int
	Height    int
	SizeBytes int64
	Format    string // "jpeg", "png", "gif", ...
}

func (m ImageMeta) Pixels() int { return m.Width * m.Height }
