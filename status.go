package seedkeeper

// AccountStatus is the remote tracker account as last reported by the site.
// Values are kept exactly as the site renders them (e.g. "1.234 TiB").
type AccountStatus struct {
	Username         string `json:"username"`
	Coin             string `json:"coin"`
	Uploaded         string `json:"uploaded"`
	Downloaded       string `json:"downloaded"`
	ActualUploaded   string `json:"actual_uploaded"`
	ActualDownloaded string `json:"actual_downloaded"`
	ShareRatio       string `json:"share_ratio"`
	SeedTime         string `json:"seed_time"`
	LeechTime        string `json:"leech_time"`
	TimeRatio        string `json:"time_ratio"`
}

// SessionStats is the download daemon's session summary.
type SessionStats struct {
	ActiveCount int `json:"active_count"`
	PausedCount int `json:"paused_count"`
	TotalCount  int `json:"total_count"`

	// UploadRate and DownloadRate are in bytes per second.
	UploadRate   int64 `json:"upload_rate"`
	DownloadRate int64 `json:"download_rate"`

	Current    TransferStats `json:"current"`
	Cumulative TransferStats `json:"cumulative"`
}

// TransferStats holds transfer counters for a session or for the daemon's lifetime.
type TransferStats struct {
	Uploaded      int64 `json:"uploaded"`
	Downloaded    int64 `json:"downloaded"`
	FilesAdded    int   `json:"files_added"`
	SessionCount  int   `json:"session_count"`
	SecondsActive int64 `json:"seconds_active"`
}
