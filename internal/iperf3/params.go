package iperf3

import "time"

// TestParams is the JSON document exchanged in the PARAM_EXCHANGE step.
// Field names are fixed by the wire protocol and must be preserved
// exactly as shown, independent of Go naming conventions. A zero value
// for any field signals "use default."
type TestParams struct {
	TCP  bool `json:"tcp,omitempty"`
	UDP  bool `json:"udp,omitempty"`
	Omit int  `json:"omit,omitempty"`
	// Time is the requested duration in seconds.
	Time int `json:"time,omitempty"`
	// Num is a byte-count alternative to Time.
	Num              int64  `json:"num,omitempty"`
	BlockCount       int64  `json:"blockcount,omitempty"`
	MSS              int    `json:"MSS,omitempty"`
	NoDelay          bool   `json:"nodelay,omitempty"`
	Parallel         int    `json:"parallel,omitempty"`
	Reverse          bool   `json:"reverse,omitempty"`
	Bidirectional    bool   `json:"bidirectional,omitempty"` // carried on the wire only; every data stream runs in one direction
	Window           int    `json:"window,omitempty"`
	Len              int    `json:"len,omitempty"`
	Bandwidth        int64  `json:"bandwidth,omitempty"`
	FQRate           int64  `json:"fqrate,omitempty"`
	PacingTimer      int    `json:"pacing_timer,omitempty"`
	Burst            int    `json:"burst,omitempty"`
	TOS              int    `json:"TOS,omitempty"`
	FlowLabel        int    `json:"flowlabel,omitempty"`
	Title            string `json:"title,omitempty"`
	ExtraData        string `json:"extra_data,omitempty"`
	Congestion       string `json:"congestion,omitempty"`
	CongestionUsed   string `json:"congestion_used,omitempty"`
	GetServerOutput  bool   `json:"get_server_output,omitempty"`
	UDPCounters64Bit bool   `json:"udp_counters_64bit,omitempty"`
	RepeatingPayload bool   `json:"repeating_payload,omitempty"`
	Zerocopy         bool   `json:"zerocopy,omitempty"`
	DontFragment     bool   `json:"dont_fragment,omitempty"`
	ClientVersion    string `json:"client_version,omitempty"`
}

// FromConfig builds the TestParams document the client sends in the
// PARAM_EXCHANGE step from a validated TestConfiguration.
func FromConfig(c *TestConfiguration) TestParams {
	p := TestParams{
		TCP:           c.Protocol != UDP,
		UDP:           c.Protocol == UDP,
		Time:          int(c.Duration / time.Second),
		Num:           c.BytesToTransfer,
		NoDelay:       c.NoDelay,
		Parallel:      c.NumStreams,
		Reverse:       c.Reverse,
		Bidirectional: c.Bidirectional,
		Len:           c.BufferLength,
		Congestion:    c.CongestionControl,
		ClientVersion: "iperf3-go",
	}
	if c.BandwidthLimit > 0 {
		p.Bandwidth = c.BandwidthLimit
	}
	if c.WindowSize > 0 {
		p.Window = c.WindowSize
	}
	if c.MSS > 0 {
		p.MSS = c.MSS
	}
	return p
}

// ToConfig builds the TestConfiguration the server side's aggregation
// and results-building code treats a session as, from the TestParams a
// client sent in the PARAM_EXCHANGE step. It is the server-side mirror
// of FromConfig; serverHost/serverPort come from the accepted control
// connection rather than from the (nonexistent, on this side) JSON.
func (p TestParams) ToConfig(serverHost string, serverPort int) TestConfiguration {
	cfg := TestConfiguration{
		ServerHost:        serverHost,
		ServerPort:        serverPort,
		Protocol:          TCP,
		Duration:          time.Duration(p.Time) * time.Second,
		BytesToTransfer:   p.Num,
		NumStreams:        p.Parallel,
		BandwidthLimit:    p.Bandwidth,
		Reverse:           p.Reverse,
		Bidirectional:     p.Bidirectional,
		ReportingInterval: DefaultReportingInterval,
		BufferLength:      p.Len,
		WindowSize:        p.Window,
		MSS:               p.MSS,
		NoDelay:           p.NoDelay,
		CongestionControl: p.Congestion,
		Timeout:           DefaultTimeout,
	}
	if p.UDP {
		cfg.Protocol = UDP
	}
	if cfg.NumStreams == 0 {
		cfg.NumStreams = 1
	}
	if cfg.BufferLength == 0 {
		cfg.BufferLength = DefaultBufferLength
	}
	return cfg
}
