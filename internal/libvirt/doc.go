// Package libvirt provides a thin client over the local libvirt daemon.
//
// kiln launches QEMU directly and never defines libvirt domains. The daemon
// is only consulted as an optional address source: when a VM sits on a
// bridge that belongs to a libvirt-managed network, that network's DHCP
// server knows which address it leased to the VM's MAC.
//
//	c, err := libvirt.Connect("", 0)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	ip, found, err := libvirt.LeaseIP(c, "virbr0", "52:54:00:12:34:56")
//
// Network definitions are read with libvirtxml to map a bridge name to its
// network.
package libvirt
