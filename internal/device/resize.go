package device

import (
	"github.com/mcvirt/mcvirt/internal/config"
	"github.com/mcvirt/mcvirt/internal/vm"
)

// UpdateMemory sets both the domain's memory and currentMemory
// elements to memoryMB (interpreted in MiB, matching
// domainTemplate's unit="MiB") and records the new size in the
// config document.
func (m *Manager) UpdateMemory(vmName string, memoryMB int) error {
	if err := m.VM.EditConfig(vmName, func(spec *vm.DomainXML) error {
		spec.Memory.Value = memoryMB
		spec.CurrentMemory.Value = memoryMB
		return nil
	}); err != nil {
		return err
	}
	return m.VM.ConfigStore(vmName).Update(func(d *config.VMDocument) error {
		d.MemoryMB = memoryMB
		return nil
	}, "memory.update")
}

// UpdateCPU sets the domain's vcpu count and records it in the config
// document.
func (m *Manager) UpdateCPU(vmName string, cpuCores int) error {
	if err := m.VM.EditConfig(vmName, func(spec *vm.DomainXML) error {
		spec.VCPU.Value = cpuCores
		return nil
	}); err != nil {
		return err
	}
	return m.VM.ConfigStore(vmName).Update(func(d *config.VMDocument) error {
		d.CPUCores = cpuCores
		return nil
	}, "cpu.update")
}
