package tmc

// GConf is the global configuration register. Bit meanings follow the TMC2130 datasheet; where
// the TMC2160 differs the field comment says so.
type GConf struct {
	IScaleAnalog      bool // recalibrate on the TMC2160
	InternalRsense    bool // faststandstill on the TMC2160
	EnPWMMode         bool
	EncCommutation    bool // multistep_filt on the TMC2160. Always sent as 0.
	Shaft             bool
	Diag0Error        bool
	Diag0OTPW         bool
	Diag0Stall        bool
	Diag1Stall        bool
	Diag1Index        bool
	Diag1OnState      bool
	Diag1StepsSkipped bool
	Diag0IntPushPull  bool
	Diag1PushPull     bool
	SmallHysteresis   bool
	StopEnable        bool
	DirectMode        bool
	TestMode          bool // Always sent as 0.
}

const (
	gconfWidth         = 17
	gconfEncCommutBit  = 3
	gconfTestModeBit   = 17
	gconfForcedZeroing = 1<<gconfEncCommutBit | 1<<gconfTestModeBit
)

func (r *GConf) flags() []*bool {
	return []*bool{
		&r.IScaleAnalog, &r.InternalRsense, &r.EnPWMMode, &r.EncCommutation, &r.Shaft,
		&r.Diag0Error, &r.Diag0OTPW, &r.Diag0Stall, &r.Diag1Stall, &r.Diag1Index,
		&r.Diag1OnState, &r.Diag1StepsSkipped, &r.Diag0IntPushPull, &r.Diag1PushPull,
		&r.SmallHysteresis, &r.StopEnable, &r.DirectMode, &r.TestMode,
	}
}

// Address implements Register.
func (GConf) Address() Address { return AddrGConf }

// Mask implements Writable.
func (GConf) Mask(Chip) uint32 { return bitMask(gconfWidth) &^ gconfForcedZeroing }

// Encode implements Writable.
func (r GConf) Encode(chip Chip) uint32 { return packFlags(r.flags()) & r.Mask(chip) }

// Decode implements Readable.
func (r *GConf) Decode(raw uint32) { unpackFlags(raw&bitMask(gconfWidth+1), r.flags()) }

// GStat holds the latched global status flags. Reading it clears them on the chip.
type GStat struct {
	Reset       bool
	DriverError bool
	UVCP        bool
}

// Address implements Register.
func (GStat) Address() Address { return AddrGStat }

// Decode implements Readable.
func (r *GStat) Decode(raw uint32) {
	unpackFlags(raw&bitMask(3), []*bool{&r.Reset, &r.DriverError, &r.UVCP})
}

// ShortConf configures short-circuit detection. TMC2160 only.
type ShortConf struct {
	S2VSLevel   uint8
	S2GLevel    uint8
	ShortFilter uint8
	ShortDelay  bool
}

var (
	shortS2VS   = field{0, 4}
	shortS2G    = field{8, 4}
	shortFilter = field{16, 2}
)

// Address implements Register.
func (ShortConf) Address() Address { return AddrShortConf }

// Mask implements Writable.
func (ShortConf) Mask(Chip) uint32 {
	return shortS2VS.mask() | shortS2G.mask() | shortFilter.mask() | 1<<18
}

// Encode implements Writable.
func (r ShortConf) Encode(chip Chip) uint32 {
	var raw uint32
	raw = shortS2VS.put(raw, uint32(r.S2VSLevel))
	raw = shortS2G.put(raw, uint32(r.S2GLevel))
	raw = shortFilter.put(raw, uint32(r.ShortFilter))
	raw |= boolBit(r.ShortDelay, 18)
	return raw & r.Mask(chip)
}

// DrvConf configures the gate drivers. TMC2160 only.
type DrvConf struct {
	BBMTime     uint8
	BBMClks     uint8
	OTSelect    uint8
	DrvStrength uint8
	FiltISense  uint8
}

var (
	drvBBMTime     = field{0, 5}
	drvBBMClks     = field{8, 4}
	drvOTSelect    = field{16, 2}
	drvDrvStrength = field{18, 2}
	drvFiltISense  = field{20, 2}
)

// Address implements Register.
func (DrvConf) Address() Address { return AddrDrvConf }

// Mask implements Writable.
func (DrvConf) Mask(Chip) uint32 {
	return drvBBMTime.mask() | drvBBMClks.mask() | drvOTSelect.mask() |
		drvDrvStrength.mask() | drvFiltISense.mask()
}

// Encode implements Writable.
func (r DrvConf) Encode(chip Chip) uint32 {
	var raw uint32
	raw = drvBBMTime.put(raw, uint32(r.BBMTime))
	raw = drvBBMClks.put(raw, uint32(r.BBMClks))
	raw = drvOTSelect.put(raw, uint32(r.OTSelect))
	raw = drvDrvStrength.put(raw, uint32(r.DrvStrength))
	raw = drvFiltISense.put(raw, uint32(r.FiltISense))
	return raw & r.Mask(chip)
}

// GlobalScaler scales the motor current. 0 is full scale, 32..255 is Scale/256 of full scale.
// Values 1..31 are not allowed for operation and are raised to 32. TMC2160 only.
type GlobalScaler struct {
	Scale uint8
}

// MinGlobalScale is the smallest nonzero global scaler the chip accepts.
const MinGlobalScale = 32

// Clamped returns the value that will actually be transmitted.
func (r GlobalScaler) Clamped() uint8 {
	if r.Scale != 0 && r.Scale < MinGlobalScale {
		return MinGlobalScale
	}
	return r.Scale
}

// Address implements Register.
func (GlobalScaler) Address() Address { return AddrGlobalScaler }

// Mask implements Writable.
func (GlobalScaler) Mask(Chip) uint32 { return bitMask(8) }

// Encode implements Writable.
func (r GlobalScaler) Encode(chip Chip) uint32 { return uint32(r.Clamped()) & r.Mask(chip) }

// IHoldIRun sets the hold and run currents (0..31 of full scale) and the hold delay.
type IHoldIRun struct {
	Hold      uint8
	Run       uint8
	HoldDelay uint8
}

var (
	ihold      = field{0, 5}
	irun       = field{8, 5}
	iholdDelay = field{16, 4}
)

// MaxCurrent is the largest IHOLD/IRUN value.
const MaxCurrent = 0x1F

// Address implements Register.
func (IHoldIRun) Address() Address { return AddrIHoldIRun }

// Mask implements Writable.
func (IHoldIRun) Mask(Chip) uint32 { return ihold.mask() | irun.mask() | iholdDelay.mask() }

// Encode implements Writable.
func (r IHoldIRun) Encode(chip Chip) uint32 {
	var raw uint32
	raw = ihold.put(raw, uint32(r.Hold))
	raw = irun.put(raw, uint32(r.Run))
	raw = iholdDelay.put(raw, uint32(r.HoldDelay))
	return raw & r.Mask(chip)
}

// TPowerDown is the delay between standstill and the motor current dropping to hold current.
type TPowerDown struct {
	Delay uint8
}

const powerDownMaxSeconds = 4.0

// PowerDownFromSeconds converts a delay in seconds. The register covers about four seconds.
func PowerDownFromSeconds(seconds float64) TPowerDown {
	if seconds >= powerDownMaxSeconds {
		return TPowerDown{Delay: 0xFF}
	}
	if seconds <= 0 {
		return TPowerDown{}
	}
	return TPowerDown{Delay: uint8(seconds / powerDownMaxSeconds * 0xFF)}
}

// Seconds returns the delay in seconds.
func (r TPowerDown) Seconds() float64 {
	return float64(r.Delay) / 0xFF * powerDownMaxSeconds
}

// Address implements Register.
func (TPowerDown) Address() Address { return AddrTPowerDown }

// Mask implements Writable.
func (TPowerDown) Mask(Chip) uint32 { return bitMask(8) }

// Encode implements Writable.
func (r TPowerDown) Encode(chip Chip) uint32 { return uint32(r.Delay) & r.Mask(chip) }

const thresholdWidth = 20

// MaxThreshold is the largest value of the 20 bit velocity threshold registers.
const MaxThreshold = 1<<thresholdWidth - 1

// TStep is the measured time between two microsteps, in clock cycles.
type TStep struct {
	Value uint32
}

// Address implements Register.
func (TStep) Address() Address { return AddrTStep }

// Decode implements Readable.
func (r *TStep) Decode(raw uint32) { r.Value = raw & bitMask(thresholdWidth) }

// TPWMThrs is the upper velocity (as a TSTEP value) for stealthChop.
type TPWMThrs struct {
	Threshold uint32
}

// Address implements Register.
func (TPWMThrs) Address() Address { return AddrTPWMThrs }

// Mask implements Writable.
func (TPWMThrs) Mask(Chip) uint32 { return bitMask(thresholdWidth) }

// Encode implements Writable.
func (r TPWMThrs) Encode(chip Chip) uint32 { return r.Threshold & r.Mask(chip) }

// TCoolThrs is the lower velocity (as a TSTEP value) for coolStep and stallGuard. Zero disables
// stallGuard.
type TCoolThrs struct {
	Threshold uint32
}

// Address implements Register.
func (TCoolThrs) Address() Address { return AddrTCoolThrs }

// Mask implements Writable.
func (TCoolThrs) Mask(Chip) uint32 { return bitMask(thresholdWidth) }

// Encode implements Writable.
func (r TCoolThrs) Encode(chip Chip) uint32 { return r.Threshold & r.Mask(chip) }

// THigh is the velocity (as a TSTEP value) above which high speed chopper modes engage.
type THigh struct {
	Threshold uint32
}

// Address implements Register.
func (THigh) Address() Address { return AddrTHigh }

// Mask implements Writable.
func (THigh) Mask(Chip) uint32 { return bitMask(thresholdWidth) }

// Encode implements Writable.
func (r THigh) Encode(chip Chip) uint32 { return r.Threshold & r.Mask(chip) }

// ChopConf is the chopper configuration.
type ChopConf struct {
	TOff     uint8
	HStrt    uint8
	HEnd     uint8
	FD3      bool
	DisFDCC  bool
	RndTF    bool // reserved on the TMC2160
	Chm      bool
	TBL      uint8
	VSense   bool // reserved on the TMC2160
	VHighFS  bool
	VHighChm bool
	TPFD     uint8 // sync on the TMC2130
	MRes     uint8
	IntPol   bool
	DEdge    bool
	DisS2G   bool
}

var (
	chopTOff  = field{0, 4}
	chopHStrt = field{4, 3}
	chopHEnd  = field{7, 4}
	chopTBL   = field{15, 2}
	chopTPFD  = field{20, 4}
	chopMRes  = field{24, 4}
)

const (
	chopWidth    = 31
	chopRndTFBit = 13
	chopVSense   = 17
)

// Address implements Register.
func (ChopConf) Address() Address { return AddrChopConf }

// Mask implements Writable.
func (ChopConf) Mask(chip Chip) uint32 {
	m := bitMask(chopWidth)
	if chip == TMC2160 {
		m &^= 1<<chopRndTFBit | 1<<chopVSense
	}
	return m
}

// Encode implements Writable.
func (r ChopConf) Encode(chip Chip) uint32 {
	var raw uint32
	raw = chopTOff.put(raw, uint32(r.TOff))
	raw = chopHStrt.put(raw, uint32(r.HStrt))
	raw = chopHEnd.put(raw, uint32(r.HEnd))
	raw |= boolBit(r.FD3, 11) | boolBit(r.DisFDCC, 12) | boolBit(r.RndTF, chopRndTFBit)
	raw |= boolBit(r.Chm, 14)
	raw = chopTBL.put(raw, uint32(r.TBL))
	raw |= boolBit(r.VSense, chopVSense) | boolBit(r.VHighFS, 18) | boolBit(r.VHighChm, 19)
	raw = chopTPFD.put(raw, uint32(r.TPFD))
	raw = chopMRes.put(raw, uint32(r.MRes))
	raw |= boolBit(r.IntPol, 28) | boolBit(r.DEdge, 29) | boolBit(r.DisS2G, 30)
	return raw & r.Mask(chip)
}

// Decode implements Readable.
func (r *ChopConf) Decode(raw uint32) {
	r.TOff = uint8(chopTOff.get(raw))
	r.HStrt = uint8(chopHStrt.get(raw))
	r.HEnd = uint8(chopHEnd.get(raw))
	r.FD3 = hasBit(raw, 11)
	r.DisFDCC = hasBit(raw, 12)
	r.RndTF = hasBit(raw, chopRndTFBit)
	r.Chm = hasBit(raw, 14)
	r.TBL = uint8(chopTBL.get(raw))
	r.VSense = hasBit(raw, chopVSense)
	r.VHighFS = hasBit(raw, 18)
	r.VHighChm = hasBit(raw, 19)
	r.TPFD = uint8(chopTPFD.get(raw))
	r.MRes = uint8(chopMRes.get(raw))
	r.IntPol = hasBit(raw, 28)
	r.DEdge = hasBit(raw, 29)
	r.DisS2G = hasBit(raw, 30)
}

// CoolConf configures coolStep and the stallGuard threshold.
type CoolConf struct {
	SEMin  uint8
	SEUp   uint8
	SEMax  uint8
	SEDn   uint8
	SEIMin bool
	// SGT is the signed stallGuard threshold, -64..63. Higher is less sensitive.
	SGT   int8
	SFilt bool
}

var (
	coolSEMin = field{0, 4}
	coolSEUp  = field{5, 2}
	coolSEMax = field{8, 4}
	coolSEDn  = field{13, 2}
	coolSGT   = field{16, 7}
)

// Stall guard threshold bounds.
const (
	MinSGT = -64
	MaxSGT = 63
)

// ClampSGT limits v to the range of the stallGuard threshold.
func ClampSGT(v int32) int8 {
	switch {
	case v < MinSGT:
		return MinSGT
	case v > MaxSGT:
		return MaxSGT
	default:
		return int8(v)
	}
}

// Address implements Register.
func (CoolConf) Address() Address { return AddrCoolConf }

// Mask implements Writable.
func (CoolConf) Mask(Chip) uint32 {
	return coolSEMin.mask() | coolSEUp.mask() | coolSEMax.mask() | coolSEDn.mask() | 1<<15 |
		coolSGT.mask() | 1<<24
}

// Encode implements Writable. SGT is sent as a 7 bit two's complement value.
func (r CoolConf) Encode(chip Chip) uint32 {
	var raw uint32
	raw = coolSEMin.put(raw, uint32(r.SEMin))
	raw = coolSEUp.put(raw, uint32(r.SEUp))
	raw = coolSEMax.put(raw, uint32(r.SEMax))
	raw = coolSEDn.put(raw, uint32(r.SEDn))
	raw |= boolBit(r.SEIMin, 15)
	raw = coolSGT.put(raw, uint32(ClampSGT(int32(r.SGT))))
	raw |= boolBit(r.SFilt, 24)
	return raw & r.Mask(chip)
}

// DriveStatus is the read-only driver status, including the stallGuard result.
type DriveStatus struct {
	SGResult   uint16
	S2VSA      bool
	S2VSB      bool
	Stealth    bool
	FSActive   bool
	CSActual   uint8
	StallGuard bool
	OT         bool
	OTPW       bool
	S2GA       bool
	S2GB       bool
	OLA        bool
	OLB        bool
	StSt       bool
}

var (
	drvSGResult = field{0, 10}
	drvCSActual = field{16, 5}
)

// Address implements Register.
func (DriveStatus) Address() Address { return AddrDrvStatus }

// Decode implements Readable.
func (r *DriveStatus) Decode(raw uint32) {
	r.SGResult = uint16(drvSGResult.get(raw))
	r.S2VSA = hasBit(raw, 12)
	r.S2VSB = hasBit(raw, 13)
	r.Stealth = hasBit(raw, 14)
	r.FSActive = hasBit(raw, 15)
	r.CSActual = uint8(drvCSActual.get(raw))
	r.StallGuard = hasBit(raw, 24)
	r.OT = hasBit(raw, 25)
	r.OTPW = hasBit(raw, 26)
	r.S2GA = hasBit(raw, 27)
	r.S2GB = hasBit(raw, 28)
	r.OLA = hasBit(raw, 29)
	r.OLB = hasBit(raw, 30)
	r.StSt = hasBit(raw, 31)
}

// Fault reports whether the status shows a hardware fault: over temperature or a short to
// ground or supply on either phase.
func (r DriveStatus) Fault() bool {
	return r.OT || r.S2GA || r.S2GB || r.S2VSA || r.S2VSB
}

// PWMConf tunes stealthChop.
type PWMConf struct {
	PWMOfs    uint8 // pwm_ampl on the TMC2130
	PWMGrad   uint8
	PWMFreq   uint8
	AutoScale bool
	AutoGrad  bool // pwm_symmetric on the TMC2130
	Freewheel uint8
	PWMReg    uint8 // TMC2160 only
	PWMLim    uint8 // TMC2160 only
}

var (
	pwmOfs       = field{0, 8}
	pwmGrad      = field{8, 8}
	pwmFreq      = field{16, 2}
	pwmFreewheel = field{20, 2}
	pwmReg       = field{24, 4}
	pwmLim       = field{28, 4}
)

// Address implements Register.
func (PWMConf) Address() Address { return AddrPWMConf }

// Mask implements Writable.
func (PWMConf) Mask(chip Chip) uint32 {
	m := pwmOfs.mask() | pwmGrad.mask() | pwmFreq.mask() | 1<<18 | 1<<19 | pwmFreewheel.mask()
	if chip == TMC2160 {
		m |= pwmReg.mask() | pwmLim.mask()
	}
	return m
}

// Encode implements Writable.
func (r PWMConf) Encode(chip Chip) uint32 {
	var raw uint32
	raw = pwmOfs.put(raw, uint32(r.PWMOfs))
	raw = pwmGrad.put(raw, uint32(r.PWMGrad))
	raw = pwmFreq.put(raw, uint32(r.PWMFreq))
	raw |= boolBit(r.AutoScale, 18) | boolBit(r.AutoGrad, 19)
	raw = pwmFreewheel.put(raw, uint32(r.Freewheel))
	raw = pwmReg.put(raw, uint32(r.PWMReg))
	raw = pwmLim.put(raw, uint32(r.PWMLim))
	return raw & r.Mask(chip)
}
