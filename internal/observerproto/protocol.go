package observerproto

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe   = "SUBSCRIBE"
	TypeObserve     = "OBSERVE"
	TypeDig         = "DIG"
	TypeDigResult   = "DIG_RESULT"
	TypeProgress    = "PROGRESS"
	TypeChunkMeshed = "CHUNK_MESHED"
)

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// WantMeshes enables CHUNK_MESHED pushes.
	WantMeshes      bool `json:"want_meshes"`
	ProgressEveryMs int  `json:"progress_every_ms,omitempty"`
}

// Client -> Server. Latest observer position in world units.
type ObserveMsg struct {
	Type     string     `json:"type"`
	Position [3]float64 `json:"position"`
	Velocity [3]float64 `json:"velocity"`
}

// Client -> Server. Clears the block at Pos.
type DigMsg struct {
	Type  string `json:"type"`
	ReqID string `json:"req_id,omitempty"`
	Pos   [3]int `json:"pos"`
}

type DigResultMsg struct {
	Type  string `json:"type"`
	ReqID string `json:"req_id,omitempty"`
	Pos   [3]int `json:"pos"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type ProgressMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Cycle           int    `json:"cycle"`
	Completed       int    `json:"completed"`
	Target          int    `json:"target"`
	Loaded          int    `json:"loaded"`
	Building        bool   `json:"building"`
}

// ChunkMeshedMsg carries mesh stats only; geometry stays with the renderer.
type ChunkMeshedMsg struct {
	Type          string `json:"type"`
	Key           string `json:"key"`
	SolidQuads    int    `json:"solid_quads"`
	FluidQuads    int    `json:"fluid_quads"`
	SolidMaterial string `json:"solid_material,omitempty"`
	FluidMaterial string `json:"fluid_material,omitempty"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	WorldParams     WorldParams `json:"world_params"`
	BlockPalette    []string    `json:"block_palette"`
	Progress        ProgressMsg `json:"progress"`
}

type WorldParams struct {
	TickRateHz  int   `json:"tick_rate_hz"`
	ChunkSize   int   `json:"chunk_size"`
	WorldRows   int   `json:"world_rows"`
	Seed        int64 `json:"seed"`
	BuildRadius int   `json:"build_radius"`
}

// Envelope is decoded first to dispatch on Type.
type Envelope struct {
	Type string `json:"type"`
}

// HTTP response for GET /v1/chunk?key=x_y_z.
type ChunkInfo struct {
	Key        string `json:"key"`
	Meshed     bool   `json:"meshed"`
	SolidQuads int    `json:"solid_quads"`
	FluidQuads int    `json:"fluid_quads"`
	Entities   int    `json:"entities"`
}
