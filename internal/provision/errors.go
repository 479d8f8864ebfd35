package provision

import (
	"fmt"

	"github.com/jbweber/kiln/internal/status"
)

// ProvisioningError reports a control-plane failure while trying to reach
// Phase. VMID is zero when no ID had been allocated yet.
type ProvisioningError struct {
	VMID  int
	Phase status.Phase
	Err   error
}

func (e *ProvisioningError) Error() string {
	if e.VMID == 0 {
		return fmt.Sprintf("provisioning failed before %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("provisioning VM %d failed before %s: %v", e.VMID, e.Phase, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// PeripheralError reports a passthrough device that could not be attached.
// It never fails a run.
type PeripheralError struct {
	Spec string
	Err  error
}

func (e *PeripheralError) Error() string {
	return fmt.Sprintf("failed to attach %s: %v", e.Spec, e.Err)
}

func (e *PeripheralError) Unwrap() error {
	return e.Err
}

// StartError reports a VM that was provisioned but did not start.
type StartError struct {
	VMID int
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("VM %d was provisioned but failed to start: %v", e.VMID, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}
