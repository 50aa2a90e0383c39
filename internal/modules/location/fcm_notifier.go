// README: FCM push notifications for route assignments.
package location

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"firebase.google.com/go/v4/messaging"
)

// FCMNotifier sends data messages through Firebase Cloud Messaging.
type FCMNotifier struct {
	client *messaging.Client
}

func NewFCMNotifier(client *messaging.Client) *FCMNotifier {
	return &FCMNotifier{client: client}
}

// NotifyAssignment pushes a new-stop message to the driver's device.
func (n *FCMNotifier) NotifyAssignment(ctx context.Context, deviceToken string, a Assignment) error {
	if deviceToken == "" {
		return fmt.Errorf("empty device token for driver %d", a.DriverID)
	}
	msg := assignmentMessage(deviceToken, a)
	messageID, err := n.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM to driver %d: %w", a.DriverID, err)
	}
	log.Printf("FCM sent for order %d driver=%d message_id=%s", a.OrderID, a.DriverID, messageID)
	return nil
}

func assignmentMessage(deviceToken string, a Assignment) *messaging.Message {
	data := map[string]string{
		"type":         "route_assigned",
		"order_id":     strconv.FormatInt(a.OrderID, 10),
		"pickup_lat":   strconv.FormatFloat(a.Pickup.Lat, 'f', 6, 64),
		"pickup_lng":   strconv.FormatFloat(a.Pickup.Lng, 'f', 6, 64),
		"dropoff_lat":  strconv.FormatFloat(a.Dropoff.Lat, 'f', 6, 64),
		"dropoff_lng":  strconv.FormatFloat(a.Dropoff.Lng, 'f', 6, 64),
		"route_length": strconv.Itoa(a.RouteLength),
	}
	body := fmt.Sprintf("Order #%d added to your route", a.OrderID)
	if a.ExpectedDelivery != nil {
		data["expected_delivery"] = a.ExpectedDelivery.UTC().Format(time.RFC3339)
		body = fmt.Sprintf("Order #%d added, deliver by %s", a.OrderID, a.ExpectedDelivery.Format("15:04"))
	}
	return &messaging.Message{
		Token: deviceToken,
		Data:  data,
		Notification: &messaging.Notification{
			Title: "New delivery",
			Body:  body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
}
