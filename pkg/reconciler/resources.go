package reconciler

import (
	"strings"

	"github.com/google/uuid"

	"github.com/cuemby/courier/pkg/types"
)

const appName = "courier"

// AddressResourceName is the resource name of an address within its space
func AddressResourceName(space, address string) string {
	return space + "." + address
}

// infraUUID derives the stable infrastructure id of a space. The same space
// always maps to the same id, so a recreated instance keeps its labels.
func infraUUID(space string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("courier:"+space)).String()
}

func spaceLabels(space string, typ types.AddressSpaceType, role string) map[types.LabelKey]string {
	return map[types.LabelKey]string{
		types.LabelRole:             role,
		types.LabelApp:              appName,
		types.LabelAddressSpace:     space,
		types.LabelAddressSpaceType: string(typ),
		types.LabelInfraUUID:        infraUUID(space),
	}
}

func instanceResource(inst *types.Instance) (*types.Resource, error) {
	r, err := types.NewResource(types.KindInstance, string(inst.ID), inst)
	if err != nil {
		return nil, err
	}
	r.Labels = spaceLabels(string(inst.ID), inst.SpaceType, types.RoleInstance)
	if inst.SpacePlan != "" {
		r.Annotations[types.AnnotationAddressSpacePlan] = inst.SpacePlan
	}
	return r, nil
}

func unitResource(space *types.AddressSpace, plan *types.AddressSpacePlan, u *types.BrokerUnit) (*types.Resource, error) {
	// Units created under an earlier plan are relabelled on the next write.
	unit := *u
	unit.SpacePlan = plan.Name
	r, err := types.NewResource(types.KindBrokerUnit, u.Name, &unit)
	if err != nil {
		return nil, err
	}
	r.Labels = spaceLabels(space.Name, space.Type, types.RoleBroker)
	r.Labels[types.LabelBrokerUnit] = u.Name
	r.Annotations[types.AnnotationClusterID] = u.Name
	r.Annotations[types.AnnotationAddressSpacePlan] = plan.Name
	return r, nil
}

func addressResource(space *types.AddressSpace, plan *types.AddressSpacePlan, a *types.Address) (*types.Resource, error) {
	r, err := types.NewResource(types.KindAddress, AddressResourceName(space.Name, a.Name), a)
	if err != nil {
		return nil, err
	}
	r.Labels = spaceLabels(space.Name, space.Type, types.RoleAddress)
	r.Annotations[types.AnnotationAddressPlan] = a.Plan
	r.Annotations[types.AnnotationAddressSpacePlan] = plan.Name
	if len(a.Status.Placement) > 0 {
		r.Annotations[types.AnnotationClusterID] = a.Status.Placement[0]
		r.Annotations[types.AnnotationBrokerID] = strings.Join(a.Status.Placement, ",")
	}
	return r, nil
}

func routerConfigResource(space *types.AddressSpace, cfg *types.RouterConfig) (*types.Resource, error) {
	r, err := types.NewResource(types.KindRouterConfig, space.Name, cfg)
	if err != nil {
		return nil, err
	}
	r.Labels = spaceLabels(space.Name, space.Type, types.RoleRouterConfig)
	return r, nil
}

// ownedBy reports whether r belongs to the given space
func ownedBy(r *types.Resource, space string) bool {
	return r.Labels[types.LabelAddressSpace] == space
}
