package oraclecache

// Owning-program addresses used to dispatch oracle account decode.
// Pyth and Switchboard addresses below are their mainnet program ids;
// the Scope program id is the Kamino-operated Scope price aggregator.
const (
	pythProgramID        = "FsJ3A3u2vn5cTVofAjvy6y5kwABJAqYWpe4975bi2epH"
	switchboardProgramID = "SW1TCH7qEPTdLsDHRgPuMQjbQxKdH2aBStViMFnt64f"
	scopeProgramID       = "HFn8GnPADiny6XqUoWE8uRPPxb29ikn4yTuPa9MF2fWJ"
)

func isPythOwner(owner string) bool        { return owner == pythProgramID }
func isSwitchboardOwner(owner string) bool { return owner == switchboardProgramID }
func isScopeOwner(owner string) bool       { return owner == scopeProgramID }
