package types

// Model describes a servable model and the versions known for it.
type Model struct {
	// Model name, unique per server.
	// example: resnet
	Name string `json:"name" yaml:"name" example:"resnet"`
	// Execution engine serving this model.
	// example: echo
	Engine string `json:"engine,omitempty" yaml:"engine,omitempty" example:"echo"`
	// Directory holding the model's version subdirectories, when discovered on disk.
	// example: /srv/models/resnet
	Path string `json:"path,omitempty" yaml:"path,omitempty" example:"/srv/models/resnet"`
	// Versions found or configured, ascending.
	// example: [1,2,3]
	Versions []int64 `json:"versions" yaml:"versions" example:"1,2,3"`
	// Versions currently loaded and serving, ascending.
	// example: [3]
	Loaded []int64 `json:"loaded,omitempty" yaml:"loaded,omitempty" example:"3"`
}
