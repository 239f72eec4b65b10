package updater

import "github.com/bundleup/bundleup/internal/models"

// Hooks observe each phase boundary of an update cycle. Every field is
// optional; nil hooks are skipped. Hook panics are not guarded against,
// since hooks belong to the embedding application and run on its terms.
type Hooks struct {
	CheckStart       func()
	CheckComplete    func(info *models.UpdateInfo) // nil info = no update
	DownloadStart    func(info *models.UpdateInfo)
	DownloadProgress func(received, total int64)
	DownloadComplete func(bundlePath string)
	InstallStart     func(label string)
	InstallComplete  func(label string)
	Error            func(stage string, err error)
}

func (h *Hooks) checkStart() {
	if h.CheckStart != nil {
		h.CheckStart()
	}
}

func (h *Hooks) checkComplete(info *models.UpdateInfo) {
	if h.CheckComplete != nil {
		h.CheckComplete(info)
	}
}

func (h *Hooks) downloadStart(info *models.UpdateInfo) {
	if h.DownloadStart != nil {
		h.DownloadStart(info)
	}
}

func (h *Hooks) downloadComplete(path string) {
	if h.DownloadComplete != nil {
		h.DownloadComplete(path)
	}
}

func (h *Hooks) installStart(label string) {
	if h.InstallStart != nil {
		h.InstallStart(label)
	}
}

func (h *Hooks) installComplete(label string) {
	if h.InstallComplete != nil {
		h.InstallComplete(label)
	}
}

func (h *Hooks) error(stage string, err error) {
	if h.Error != nil {
		h.Error(stage, err)
	}
}
