package synthetic

// Defaults are the server-side fallbacks applied when a request body omits
// a knob. They map one to one onto the SYN_* environment variables.
type Defaults struct {
	Frames        int
	DelayMs       int
	BytesPerFrame int
	CPUSpinMs     int
	Fanout        int
	FanoutDelayMs int
	Gzip          bool
}

// DefaultParams returns the stock stream shape: 200 frames of 64 bytes
// with a 5ms inter-frame delay and no synthetic CPU work.
func DefaultParams() Defaults {
	return Defaults{
		Frames:        200,
		DelayMs:       5,
		BytesPerFrame: 64,
	}
}

// chatRequest is the wire form of a stream request. Pointer fields
// distinguish "absent, use the server default" from an explicit zero.
type chatRequest struct {
	Frames        *int  `json:"frames" binding:"omitempty,min=0,max=100000"`
	DelayMs       *int  `json:"delay_ms" binding:"omitempty,min=0,max=60000"`
	BytesPerFrame *int  `json:"bytes_per_frame" binding:"omitempty,min=1,max=1048576"`
	CPUSpinMs     *int  `json:"cpu_spin_ms" binding:"omitempty,min=0,max=10000"`
	Fanout        *int  `json:"fanout" binding:"omitempty,min=0,max=1024"`
	FanoutDelayMs *int  `json:"fanout_delay_ms" binding:"omitempty,min=0,max=60000"`
	Compression   *bool `json:"compression"`
}

// toolRequest is the wire form of a tool invocation
type toolRequest struct {
	CPUSpinMs *int `json:"cpu_spin_ms" binding:"omitempty,min=0,max=10000"`
}

// streamPlan is a fully resolved stream request
type streamPlan struct {
	frames        int
	delayMs       int
	bytesPerFrame int
	spinMs        int
	fanout        int
	fanoutDelayMs int
	gzip          bool
}

func (r chatRequest) resolve(d Defaults) streamPlan {
	plan := streamPlan{
		frames:        d.Frames,
		delayMs:       d.DelayMs,
		bytesPerFrame: d.BytesPerFrame,
		spinMs:        d.CPUSpinMs,
		fanout:        d.Fanout,
		fanoutDelayMs: d.FanoutDelayMs,
		gzip:          d.Gzip,
	}
	if r.Frames != nil {
		plan.frames = *r.Frames
	}
	if r.DelayMs != nil {
		plan.delayMs = *r.DelayMs
	}
	if r.BytesPerFrame != nil {
		plan.bytesPerFrame = *r.BytesPerFrame
	}
	if r.CPUSpinMs != nil {
		plan.spinMs = *r.CPUSpinMs
	}
	if r.Fanout != nil {
		plan.fanout = *r.Fanout
	}
	if r.FanoutDelayMs != nil {
		plan.fanoutDelayMs = *r.FanoutDelayMs
	}
	if r.Compression != nil {
		plan.gzip = *r.Compression
	}
	return plan
}
