package motors

import "fmt"

// ErrorCode is the result carried by every response. Codes match the host protocol.
type ErrorCode int

// Error codes.
const (
	NoError           ErrorCode = 0
	LidMotorBusy      ErrorCode = 501
	LidMotorFault     ErrorCode = 502
	SealMotorSPIError ErrorCode = 503
	SealMotorBusy     ErrorCode = 504
	SealMotorFault    ErrorCode = 505
	// SealMotorStall is reserved. A stall ends a seal movement with StallReason and no error.
	SealMotorStall ErrorCode = 506
	LidClosed      ErrorCode = 507
	MotorStopped   ErrorCode = 509
)

var errorNames = map[ErrorCode]string{
	NoError:           "NO_ERROR",
	LidMotorBusy:      "LID_MOTOR_BUSY",
	LidMotorFault:     "LID_MOTOR_FAULT",
	SealMotorSPIError: "SEAL_MOTOR_SPI_ERROR",
	SealMotorBusy:     "SEAL_MOTOR_BUSY",
	SealMotorFault:    "SEAL_MOTOR_FAULT",
	SealMotorStall:    "SEAL_MOTOR_STALL",
	LidClosed:         "LID_CLOSED",
	MotorStopped:      "MOTOR_STOPPED",
}

func (c ErrorCode) String() string {
	if name, ok := errorNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_%d", int(c))
}

// Err returns nil for NoError and an error naming the code otherwise.
func (c ErrorCode) Err() error {
	if c == NoError {
		return nil
	}
	return codeError(c)
}

type codeError ErrorCode

func (e codeError) Error() string {
	return fmt.Sprintf("ERR%d: %s", int(e), ErrorCode(e))
}
