package lwm2m

// Core well-known LwM2M objects (Security /0, Server /1, Device /3), per
// spec.md §3/§6's "the client ships the mandatory core objects" and the
// OMA LwM2M registry's fixed resource numbering. original_source/ does not
// carry a generic device object file (Zephyr's board-specific device
// object is out of this module's scope), so these resource IDs are taken
// directly from the OMA LwM2M object registry rather than adapted from a
// specific source file.

// NewSecurityObject builds the Security object (/0): per-server
// credentials, referenced by ShortServerID from the Server object.
func NewSecurityObject() *Object {
	obj := &Object{
		ID:           SecurityObjectID,
		MaxInstances: 8,
		IsCore:       true,
		Fields: []Field{
			{ResourceID: 0, Type: TypeString, Permissions: PermRead},               // LwM2M Server URI
			{ResourceID: 1, Type: TypeBool, Permissions: PermRead},                 // Bootstrap Server
			{ResourceID: 2, Type: TypeU8, Permissions: PermRead},                   // Security Mode
			{ResourceID: 3, Type: TypeOpaque, Permissions: PermRead, Optional: true}, // Public Key/Identity
			{ResourceID: 4, Type: TypeOpaque, Permissions: PermRead, Optional: true}, // Server Public Key
			{ResourceID: 5, Type: TypeOpaque, Permissions: PermRead, Optional: true}, // Secret Key
			{ResourceID: 10, Type: TypeU32, Permissions: PermRead, Optional: true},   // Short Server ID
		},
	}
	obj.CreateFunc = DefaultCreateFunc(obj)
	return obj
}

// NewServerObject builds the Server object (/1): registration lifetime,
// binding, and notification storing/disable knobs for one server.
func NewServerObject() *Object {
	obj := &Object{
		ID:           ServerObjectID,
		MaxInstances: 8,
		IsCore:       true,
		Fields: []Field{
			{ResourceID: 0, Type: TypeU32, Permissions: PermRead},                   // Short Server ID
			{ResourceID: 1, Type: TypeU32, Permissions: PermRead | PermWrite},       // Lifetime
			{ResourceID: 2, Type: TypeU32, Permissions: PermRead | PermWrite, Optional: true}, // Default Min Period
			{ResourceID: 3, Type: TypeU32, Permissions: PermRead | PermWrite, Optional: true}, // Default Max Period
			{ResourceID: 5, Type: TypeU32, Permissions: PermRead | PermWrite, Optional: true}, // Disable Timeout
			{ResourceID: 6, Type: TypeBool, Permissions: PermRead | PermWrite},      // Notification Storing
			{ResourceID: 7, Type: TypeString, Permissions: PermRead | PermWrite},    // Binding
			{ResourceID: 8, Type: TypeOpaque, Permissions: PermRead | PermExecute, Optional: true}, // Registration Update Trigger
		},
	}
	obj.CreateFunc = DefaultCreateFunc(obj)
	return obj
}

// NewDeviceObject builds the Device object (/3): static identification
// resources plus the Reboot/Factory Reset executables.
func NewDeviceObject() *Object {
	obj := &Object{
		ID:           DeviceObjectID,
		MaxInstances: 1,
		IsCore:       true,
		Fields: []Field{
			{ResourceID: 0, Type: TypeString, Permissions: PermRead, Optional: true},  // Manufacturer
			{ResourceID: 1, Type: TypeString, Permissions: PermRead, Optional: true},  // Model Number
			{ResourceID: 2, Type: TypeString, Permissions: PermRead, Optional: true},  // Serial Number
			{ResourceID: 3, Type: TypeString, Permissions: PermRead, Optional: true},  // Firmware Version
			{ResourceID: 4, Type: TypeOpaque, Permissions: PermExecute, Optional: true}, // Reboot
			{ResourceID: 5, Type: TypeOpaque, Permissions: PermExecute, Optional: true}, // Factory Reset
			{ResourceID: 9, Type: TypeU8, Permissions: PermRead, Optional: true},      // Battery Level
			{ResourceID: 13, Type: TypeTime, Permissions: PermRead | PermWrite, Optional: true}, // Current Time
			{ResourceID: 16, Type: TypeString, Permissions: PermRead, Optional: true}, // Supported Binding
		},
	}
	obj.CreateFunc = DefaultCreateFunc(obj)
	return obj
}

// RegisterCoreObjects installs Security, Server, and Device object
// definitions (not instances) into reg, the minimum set spec.md §6
// requires every client to carry.
func RegisterCoreObjects(reg *Registry) {
	reg.RegisterObject(NewSecurityObject())
	reg.RegisterObject(NewServerObject())
	reg.RegisterObject(NewDeviceObject())
}
