//go:build linux

package thermocycler

import (
	"github.com/pkg/errors"

	"github.com/viam-modules/thermocycler-motion/motors"
)

// DoCommand() related constants.
const (
	Command = "command"

	MoveLid          = "move_lid"
	OpenLid          = "open_lid"
	CloseLid         = "close_lid"
	PlateLift        = "plate_lift"
	MoveSeal         = "move_seal"
	SetSealParameter = "set_seal_parameter"
	ActuateSolenoid  = "actuate_solenoid"
	GetDriveStatus   = "get_drive_status"
	GetLidSwitches   = "get_lid_switches"
	GetLidStatus     = "get_lid_status"
	Stop             = "stop"

	AngleVal     = "angle"
	OverdriveVal = "overdrive"
	StepsVal     = "steps"
	ParameterVal = "parameter"
	ValueVal     = "value"
	EngageVal    = "engage"
	MotorVal     = "motor"
)

// parseCommand turns a DoCommand request into the task message for id.
func parseCommand(cmd map[string]interface{}, id motors.ID) (motors.Message, error) {
	name, ok := cmd[Command]
	if !ok {
		return nil, errors.Errorf("missing %s value", Command)
	}
	switch name {
	case MoveLid:
		angle, err := number(cmd, AngleVal)
		if err != nil {
			return nil, err
		}
		overdrive, err := optionalBool(cmd, OverdriveVal)
		if err != nil {
			return nil, err
		}
		return motors.StartLidMovement{
			ID:        id,
			Target:    motors.LidTarget{Kind: motors.TargetAngle, Angle: angle},
			Overdrive: overdrive,
		}, nil
	case OpenLid:
		return motors.StartLidMovement{ID: id, Target: motors.LidTarget{Kind: motors.TargetOpen}}, nil
	case CloseLid:
		return motors.StartLidMovement{ID: id, Target: motors.LidTarget{Kind: motors.TargetClosed}}, nil
	case PlateLift:
		return motors.PlateLift{ID: id}, nil
	case MoveSeal:
		steps, err := number(cmd, StepsVal)
		if err != nil {
			return nil, err
		}
		return motors.StartSealMovement{ID: id, Steps: int64(steps)}, nil
	case SetSealParameter:
		raw, ok := cmd[ParameterVal].(string)
		if !ok {
			return nil, errors.Errorf("need string %s value for %s", ParameterVal, name)
		}
		param, err := motors.ParseSealParameter(raw)
		if err != nil {
			return nil, err
		}
		value, err := number(cmd, ValueVal)
		if err != nil {
			return nil, err
		}
		return motors.SetSealParameter{ID: id, Parameter: param, Value: int64(value)}, nil
	case ActuateSolenoid:
		engage, ok := cmd[EngageVal].(bool)
		if !ok {
			return nil, errors.Errorf("need bool %s value for %s", EngageVal, name)
		}
		return motors.ActuateSolenoid{ID: id, Engage: engage}, nil
	case GetDriveStatus:
		return motors.GetDriveStatus{ID: id}, nil
	case GetLidSwitches:
		return motors.GetLidSwitches{ID: id}, nil
	case GetLidStatus:
		return motors.GetLidStatus{ID: id}, nil
	case Stop:
		switch cmd[MotorVal] {
		case "lid":
			return motors.StopMotor{ID: id, Motor: motors.LidMotor}, nil
		case "seal":
			return motors.StopMotor{ID: id, Motor: motors.SealMotor}, nil
		default:
			return nil, errors.Errorf("%s must be \"lid\" or \"seal\"", MotorVal)
		}
	default:
		return nil, errors.Errorf("no such command: %s", name)
	}
}

// number reads a required numeric field. JSON numbers arrive as float64.
func number(cmd map[string]interface{}, key string) (float64, error) {
	switch v := cmd[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case nil:
		return 0, errors.Errorf("need %s value", key)
	default:
		return 0, errors.Errorf("%s value must be a number", key)
	}
}

func optionalBool(cmd map[string]interface{}, key string) (bool, error) {
	raw, ok := cmd[key]
	if !ok {
		return false, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, errors.Errorf("%s value must be a bool", key)
	}
	return b, nil
}

// responseMap renders a task response for DoCommand.
func responseMap(resp motors.Response) map[string]interface{} {
	out := map[string]interface{}{}
	code := motors.NoError
	switch r := resp.(type) {
	case motors.Acknowledge:
		code = r.Error
	case motors.SealMovementResult:
		code = r.Error
		out["steps"] = r.Steps
		out["reason"] = r.Reason.String()
	case motors.DriveStatus:
		code = r.Error
		out["stall_flag"] = r.StallFlag
		out["stall_result"] = int(r.StallResult)
		out["tstep"] = int(r.TStep)
		out["velocity"] = r.Velocity
		out["standstill"] = r.Status.StSt
		out["overtemp"] = r.Status.OT
		out["fault"] = r.Status.Fault()
		out["reset"] = r.Global.Reset
		out["driver_error"] = r.Global.DriverError
		out["undervoltage"] = r.Global.UVCP
	case motors.LidSwitches:
		out["closed"] = r.Closed
		out["open"] = r.Open
	case motors.LidStatus:
		out["lid"] = r.Lid.String()
		out["seal_moving"] = r.SealMoving
		out["seal_steps"] = r.SealSteps
	}
	out["error_code"] = int(code)
	out["error"] = ""
	if err := code.Err(); err != nil {
		out["error"] = err.Error()
	}
	return out
}
