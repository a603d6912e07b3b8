package vm

import (
	"bytes"
	"text/template"
)

// domainTemplateSource is the fixed domain XML template Create renders
// for a brand-new VM: name, memory and vcpu count substituted, no
// disks or network interfaces yet — those are added afterwards through
// EditConfig by internal/device and internal/storage.
const domainTemplateSource = `<domain type='kvm'>
  <name>{{.Name}}</name>
  <memory unit='MB'>{{.MemoryMB}}</memory>
  <currentMemory unit='MB'>{{.MemoryMB}}</currentMemory>
  <vcpu placement='static'>{{.CPUCores}}</vcpu>
  <os>
    <type arch='x86_64' machine='pc'>hvm</type>
    <boot dev='hd'/>
  </os>
  <features>
    <acpi/>
    <apic/>
  </features>
  <cpu mode='host-passthrough'/>
  <devices>
    <emulator>/usr/bin/qemu-system-x86_64</emulator>
    <console type='pty'/>
    <graphics type='vnc' port='-1' autoport='yes'/>
  </devices>
</domain>
`

var domainTemplate = template.Must(template.New("domain").Parse(domainTemplateSource))

type domainTemplateData struct {
	Name     string
	MemoryMB int
	CPUCores int
}

func renderDomainXML(name string, cpuCores, memoryMB int) (string, error) {
	var buf bytes.Buffer
	if err := domainTemplate.Execute(&buf, domainTemplateData{Name: name, MemoryMB: memoryMB, CPUCores: cpuCores}); err != nil {
		return "", err
	}
	return buf.String(), nil
}
