package models

// UpdateInfo is the server's answer to an update check. It is immutable
// once received; every hash in it is a lowercase hex SHA-256 the client
// re-computes locally before trusting the corresponding artifact.
type UpdateInfo struct {
	IsAvailable bool   `json:"isAvailable"`
	ReleaseID   string `json:"releaseId"`
	Label       string `json:"label"`
	AppVersion  string `json:"appVersion,omitempty"` // target app-version range

	DownloadURL string `json:"downloadUrl"`
	PackageHash string `json:"packageHash"`
	PackageSize int64  `json:"packageSize,omitempty"`

	// Incremental delivery, present only when the server has a diff
	// against a label this device may still hold locally.
	PatchURL       string `json:"patchUrl,omitempty"`
	PatchHash      string `json:"patchHash,omitempty"`
	PatchSize      int64  `json:"patchSize,omitempty"`
	PatchAlgorithm string `json:"patchAlgorithm,omitempty"`
	PatchBaseLabel string `json:"patchBaseLabel,omitempty"`

	AssetsManifestURL  string `json:"assetsManifestUrl,omitempty"`
	AssetsManifestHash string `json:"assetsManifestHash,omitempty"`

	Mandatory bool `json:"mandatory,omitempty"`
}

// CheckRequest identifies this device and its current code to the server.
type CheckRequest struct {
	DeploymentKey string `json:"deploymentKey"`
	DeviceID      string `json:"deviceId"`
	Platform      string `json:"platform"`
	AppVersion    string `json:"appVersion"`
	Label         string `json:"label,omitempty"` // currently confirmed bundle
}
