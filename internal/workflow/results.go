package workflow

// AnalyzeResult is the accepted output of repository analysis.
type AnalyzeResult struct {
	Language     string                 `json:"language"`
	Framework    string                 `json:"framework"`
	Entrypoint   string                 `json:"entrypoint"`
	Port         int                    `json:"port"`
	BuildCommand string                 `json:"build_command"`
	StartCommand string                 `json:"start_command"`
	Dependencies []string               `json:"dependencies"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// DockerfileResult is the accepted output of Dockerfile generation.
type DockerfileResult struct {
	Content     string                 `json:"content"`
	Path        string                 `json:"path"`
	BaseImage   string                 `json:"base_image"`
	ExposedPort int                    `json:"exposed_port,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// BuildResult is the accepted output of the image build.
type BuildResult struct {
	ImageID   string                 `json:"image_id"`
	ImageRef  string                 `json:"image_ref"`
	ImageSize int64                  `json:"image_size"`
	BuildTime string                 `json:"build_time"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ScanResult is the accepted output of the vulnerability scan.
type ScanResult struct {
	// Summary maps severity name (critical, high, medium, low) to count.
	Summary  map[string]int         `json:"summary"`
	Report   map[string]interface{} `json:"report,omitempty"`
	Scanner  string                 `json:"scanner,omitempty"`
	ImageRef string                 `json:"image_ref,omitempty"`
}

// K8sResult is the accepted output of Kubernetes manifest generation.
type K8sResult struct {
	Manifests   []string               `json:"manifests"`
	Namespace   string                 `json:"namespace"`
	ServiceName string                 `json:"service_name"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// DeployResult is the accepted output of the deployment phase.
type DeployResult struct {
	Endpoint  string                 `json:"endpoint"`
	Namespace string                 `json:"namespace"`
	Ready     bool                   `json:"ready"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}
