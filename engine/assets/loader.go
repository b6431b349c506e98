package assets

// Resolver turns a path referenced from inside an asset file, relative to the
// asset directory, into the handle of the referenced asset.
type Resolver func(ref string) LoadHandle

// Loader decodes one file format into an asset value (*ShaderAsset,
// *MaterialAsset, ...) ready to be sent to the load queues.
type Loader interface {
	Kind() AssetKind
	// Extensions lists the file suffixes handled, including the dot.
	Extensions() []string
	Load(path string, data []byte, resolve Resolver) (interface{}, error)
}
