package compress

// ZstdCodec compresses with Zstandard. The backend is selected at build
// time: valyala/gozstd when cgo is available, klauspost/compress/zstd
// otherwise. Both speak the standard zstd frame format, so payloads are
// interchangeable across builds.
type ZstdCodec struct{}

var _ Codec = ZstdCodec{}
